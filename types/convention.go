package types

import "github.com/wippyai/dynffi/errors"

// Convention is a calling convention tag.
type Convention uint8

const (
	ConvDefault Convention = iota
	ConvCdecl
	ConvSysV
	ConvStdcall
	ConvThiscall
	ConvFastcall
	ConvMSCdecl
	ConvUnix64
	ConvWin64
)

var conventionNames = [...]string{
	ConvDefault:  "default",
	ConvCdecl:    "cdecl",
	ConvSysV:     "sysv",
	ConvStdcall:  "stdcall",
	ConvThiscall: "thiscall",
	ConvFastcall: "fastcall",
	ConvMSCdecl:  "mscdecl",
	ConvUnix64:   "unix64",
	ConvWin64:    "win64",
}

func (c Convention) String() string {
	if int(c) < len(conventionNames) {
		return conventionNames[c]
	}
	return "unknown"
}

// ParseConvention maps a protocol name to its tag. The empty string is the default.
func ParseConvention(name string) (Convention, error) {
	if name == "" {
		return ConvDefault, nil
	}
	for i, n := range conventionNames {
		if n == name {
			return Convention(i), nil
		}
	}
	return ConvDefault, errors.UnknownProtocol(name)
}
