package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rplmesh/rplmesh/internal/proto"
)

func TestEnvelopeRoundTripsDIO(t *testing.T) {
	dio := &proto.DIO{
		InstanceID: 1,
		Version:    5,
		Rank:       512,
		Grounded:   true,
		MOP:        proto.MopStoring,
		OCP:        proto.OCPDriplOF,
	}

	payload := encodeDIO(dio)
	env, err := decodeEnvelope(payload)
	require.NoError(t, err)

	assert.Equal(t, kindDIO, env.Kind)
	require.NotNil(t, env.DIO)
	assert.Equal(t, *dio, *env.DIO)
	assert.Nil(t, env.DAO)
	assert.Nil(t, env.DIS)
}

func TestEnvelopeRoundTripsDAO(t *testing.T) {
	dao := &proto.DAO{InstanceID: 2, Lifetime: 0xFFFF}

	env, err := decodeEnvelope(encodeDAO(dao))
	require.NoError(t, err)

	assert.Equal(t, kindDAO, env.Kind)
	require.NotNil(t, env.DAO)
	assert.Equal(t, *dao, *env.DAO)
}

func TestEnvelopeRoundTripsDIS(t *testing.T) {
	dis := &proto.DIS{Solicited: true}

	env, err := decodeEnvelope(encodeDIS(dis))
	require.NoError(t, err)

	assert.Equal(t, kindDIS, env.Kind)
	require.NotNil(t, env.DIS)
	assert.Equal(t, *dis, *env.DIS)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := decodeEnvelope([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}
