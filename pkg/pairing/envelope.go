package pairing

import (
	"errors"
	"fmt"

	"github.com/barnettlynn/companion/pkg/opack"
	"github.com/barnettlynn/companion/pkg/tlv8"
)

// encodeEnvelope wraps a TLV8 record as the OPACK map PS_*/PV_* frames
// carry: {_pd: <tlv8 bytes>, ...extra}.
func encodeEnvelope(rec tlv8.Record, extra ...opack.MapEntry) []byte {
	entries := append([]opack.MapEntry{opack.Entry(opackKeyPairData, opack.BytesVal(tlv8.Encode(rec)))}, extra...)
	return opack.Pack(opack.MapVal(entries...))
}

// decodeEnvelope unwraps an OPACK envelope and decodes its _pd field as
// a TLV8 record.
func decodeEnvelope(payload []byte) (tlv8.Record, error) {
	v, err := opack.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("pairing: decode OPACK envelope: %w", err)
	}
	if v.Kind != opack.KindMap {
		return nil, errors.New("pairing: OPACK envelope is not a map")
	}
	for _, e := range v.Map {
		if e.Key == opackKeyPairData {
			rec, err := tlv8.Decode(e.Value.Bytes)
			if err != nil {
				return nil, fmt.Errorf("pairing: decode pair data TLV: %w", err)
			}
			return rec, nil
		}
	}
	return nil, errors.New("pairing: OPACK envelope missing _pd")
}
