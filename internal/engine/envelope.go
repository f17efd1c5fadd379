package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/rplmesh/rplmesh/internal/proto"
)

// msgKind tags which control message an envelope carries. Byte-level
// DIO/DAO/DIS wire layout is not modeled; the composition root only
// needs something it can put on the wire and get back, so it uses
// encoding/gob rather than inventing a bit-packed format nothing
// downstream reads.
type msgKind uint8

const (
	kindDIO msgKind = iota + 1
	kindDAO
	kindDIS
)

type envelope struct {
	Kind msgKind
	DIO  *proto.DIO
	DAO  *proto.DAO
	DIS  *proto.DIS
}

func encodeDIO(dio *proto.DIO) []byte { return mustEncode(envelope{Kind: kindDIO, DIO: dio}) }
func encodeDAO(dao *proto.DAO) []byte { return mustEncode(envelope{Kind: kindDAO, DAO: dao}) }
func encodeDIS(dis *proto.DIS) []byte { return mustEncode(envelope{Kind: kindDIS, DIS: dis}) }

func mustEncode(e envelope) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		// Only reachable if proto grows an unencodable field; every
		// current DIO/DAO/DIS field is gob-safe.
		panic(fmt.Sprintf("engine: encode control message: %v", err))
	}
	return buf.Bytes()
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var e envelope
	err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e)
	return e, err
}
