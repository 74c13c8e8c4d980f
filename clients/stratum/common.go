package stratum

//Some functions commonly used by the pool clients are grouped here

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// HexStringToBytes converts a hex encoded string (but as go type interface{}) to a byteslice
// If v is no valid string or the string contains invalid characters, an error is returned
func HexStringToBytes(v interface{}) (result []byte, err error) {
	var ok bool
	var stringValue string
	if stringValue, ok = v.(string); !ok {
		return nil, errors.New("Not a valid string")
	}
	if result, err = hex.DecodeString(stringValue); err != nil {
		return nil, errors.New("Not a valid hexadecimal value")
	}
	return
}

// BytesToHex is the uppercase hex form pools expect in submissions
func BytesToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// StringParams decodes notification params that must all be strings
func StringParams(params []interface{}) (fields []string, err error) {
	err = mapstructure.Decode(params, &fields)
	return
}

// NumberParam decodes a number that may arrive as a JSON number or a string
func NumberParam(v interface{}) (f float64, err error) {
	err = mapstructure.WeakDecode(v, &f)
	return
}
