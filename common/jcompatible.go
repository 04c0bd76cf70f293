package common

import "unicode/utf16"

// JTypeCompatible 和Java类型兼容的hashCode
type JTypeCompatible interface {
	// HashCode java.lang.Object.hashCode()
	HashCode() int32
}

// JString java.lang.String
type JString string

// HashCode s[0]*31^(n-1) + ... + s[n-1] over UTF-16 code units
func (s JString) HashCode() int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(string(s))) {
		h = 31*h + int32(u)
	}
	return h
}

// JInt java.lang.Integer
type JInt int32

// HashCode implements JTypeCompatible
func (i JInt) HashCode() int32 {
	return int32(i)
}

// JLong java.lang.Long
type JLong int64

// HashCode (int)(value ^ (value >>> 32))
func (l JLong) HashCode() int32 {
	v := int64(l)
	return int32(v ^ int64(uint64(v)>>32))
}
