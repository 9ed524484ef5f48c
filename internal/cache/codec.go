package cache

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode writes values with Core Deterministic Encoding so an unchanged
// store always produces the same bytes.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any, matching what the YAML
// snapshot produces for the same data.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}
