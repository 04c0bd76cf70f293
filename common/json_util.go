package common

import (
	jsoniter "github.com/json-iterator/go"
)

// JSON is the json-iterator config compatible with encoding/json
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

var jsonUseNumber = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// UnmarshalUseNumber 使用UseNumber进行解析,避免int64被错误地转为float64
func UnmarshalUseNumber(data []byte, v interface{}) error {
	return jsonUseNumber.Unmarshal(data, v)
}
