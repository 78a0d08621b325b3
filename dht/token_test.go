package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cathalgarvey/lightdht/krpc"
)

func TestTokenValidatesImmediately(t *testing.T) {
	tm, err := NewTokenManager(time.Hour)
	require.NoError(t, err)

	ep := testEndpoint(t, 1)
	querier := idFromByte(0x02)
	infoHash := idFromByte(0xAB)

	token := tm.Issue(ep, querier, infoHash)
	assert.True(t, tm.Validate(token, ep, querier, infoHash))
}

func TestTokenRejectsWrongEndpointHashOrQuerier(t *testing.T) {
	tm, err := NewTokenManager(time.Hour)
	require.NoError(t, err)

	ep := testEndpoint(t, 1)
	other := testEndpoint(t, 2)
	querier := idFromByte(0x02)
	infoHash := idFromByte(0xAB)

	token := tm.Issue(ep, querier, infoHash)
	assert.False(t, tm.Validate(token, other, querier, infoHash))
	assert.False(t, tm.Validate(token, ep, querier, idFromByte(0xCD)))
	assert.False(t, tm.Validate(token, ep, idFromByte(0x03), infoHash))
}

func TestTokenSurvivesOneRotation(t *testing.T) {
	clock := &mockClock{t: time.Unix(1000, 0)}
	tm, err := NewTokenManager(time.Minute)
	require.NoError(t, err)
	tm.SetTimeProvider(clock)

	ep := testEndpoint(t, 1)
	querier := idFromByte(0x02)
	infoHash := idFromByte(0xAB)
	token := tm.Issue(ep, querier, infoHash)

	clock.advance(2 * time.Minute)
	require.NoError(t, tm.MaybeRotate())

	assert.True(t, tm.Validate(token, ep, querier, infoHash))
}

func TestTokenExpiresAfterTwoRotations(t *testing.T) {
	clock := &mockClock{t: time.Unix(1000, 0)}
	tm, err := NewTokenManager(time.Minute)
	require.NoError(t, err)
	tm.SetTimeProvider(clock)

	ep := testEndpoint(t, 1)
	querier := idFromByte(0x02)
	infoHash := idFromByte(0xAB)
	token := tm.Issue(ep, querier, infoHash)

	clock.advance(2 * time.Minute)
	require.NoError(t, tm.MaybeRotate())
	clock.advance(2 * time.Minute)
	require.NoError(t, tm.MaybeRotate())

	assert.False(t, tm.Validate(token, ep, querier, infoHash))
}

func TestEndpointBytesCanonicalForm(t *testing.T) {
	ep, err := krpc.NewEndpoint([]byte{192, 168, 1, 1}, 6881)
	require.NoError(t, err)
	b := endpointBytes(ep)
	require.Len(t, b, 6)
	assert.Equal(t, []byte{192, 168, 1, 1}, b[:4])
}
