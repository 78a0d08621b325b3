// Package bencode implements the BitTorrent bencoding serialization (BEP-3).
//
// Bencode has four value kinds: arbitrary-precision integers, byte
// strings, ordered lists, and ordered string-keyed maps. This package
// exposes both a tagged Value variant for working with bencode
// dynamically and a reflection-based Marshal/Unmarshal pair, driven by
// `bencode:"name,omitempty"` struct tags, for the fixed KRPC message
// shapes used by the krpc package.
//
// Example:
//
//	data, err := bencode.Marshal(map[string]any{"a": "b", "cd": 42})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var v bencode.Value
//	v, err = bencode.Decode(data)
package bencode
