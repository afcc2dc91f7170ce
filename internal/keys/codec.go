package keys

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1024,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalShare encodes a share in deterministic CBOR for handing to its
// device.
func MarshalShare(s Share) ([]byte, error) {
	return encMode.Marshal(s)
}

func UnmarshalShare(b []byte) (Share, error) {
	var s Share
	if err := decMode.Unmarshal(b, &s); err != nil {
		return Share{}, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return s, nil
}

func MarshalEscrow(e *Escrow) ([]byte, error) {
	return encMode.Marshal(e)
}

func UnmarshalEscrow(b []byte) (*Escrow, error) {
	var e Escrow
	if err := decMode.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return &e, nil
}
