package frame

import "fmt"

// Protocol versions. The high bit of the version byte carries the
// direction: requests are 0x0N, responses 0x8N.
const (
	ProtoVersion1 byte = 0x01
	ProtoVersion2 byte = 0x02

	protoDirectionMask byte = 0x80
	protoVersionMask   byte = 0x7F
)

// IsResponse reports whether a version byte carries the response direction bit.
func IsResponse(version byte) bool {
	return version&protoDirectionMask == protoDirectionMask
}

// Version strips the direction bit off a version byte.
func Version(version byte) byte {
	return version & protoVersionMask
}

// Opcode identifies the kind of a message.
type Opcode byte

const (
	OpError        Opcode = 0x00
	OpStartup      Opcode = 0x01
	OpReady        Opcode = 0x02
	OpAuthenticate Opcode = 0x03
	OpCredentials  Opcode = 0x04
	OpOptions      Opcode = 0x05
	OpSupported    Opcode = 0x06
	OpQuery        Opcode = 0x07
	OpResult       Opcode = 0x08
	OpPrepare      Opcode = 0x09
	OpExecute      Opcode = 0x0A
	OpRegister     Opcode = 0x0B
	OpEvent        Opcode = 0x0C
)

func (o Opcode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpStartup:
		return "STARTUP"
	case OpReady:
		return "READY"
	case OpAuthenticate:
		return "AUTHENTICATE"
	case OpCredentials:
		return "CREDENTIALS"
	case OpOptions:
		return "OPTIONS"
	case OpSupported:
		return "SUPPORTED"
	case OpQuery:
		return "QUERY"
	case OpResult:
		return "RESULT"
	case OpPrepare:
		return "PREPARE"
	case OpExecute:
		return "EXECUTE"
	case OpRegister:
		return "REGISTER"
	case OpEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("UNKNOWN_OP_0x%02x", byte(o))
	}
}

// Header flag bits.
const (
	FlagCompress byte = 0x01
	FlagTracing  byte = 0x02
)

// RESULT body kinds.
const (
	ResultKindVoid          int32 = 0x0001
	ResultKindRows          int32 = 0x0002
	ResultKindKeyspace      int32 = 0x0003
	ResultKindPrepared      int32 = 0x0004
	ResultKindSchemaChanged int32 = 0x0005
)

// Rows/prepared metadata flag bits.
const (
	FlagGlobalTableSpec int32 = 0x0001
	FlagHasMorePages    int32 = 0x0002
	FlagNoMetadata      int32 = 0x0004
)

// Consistency is the replica-count policy carried alongside reads and
// writes. It is opaque to the codec and exposed for callers.
type Consistency uint16

const (
	Any         Consistency = 0x00
	One         Consistency = 0x01
	Two         Consistency = 0x02
	Three       Consistency = 0x03
	Quorum      Consistency = 0x04
	All         Consistency = 0x05
	LocalQuorum Consistency = 0x06
	EachQuorum  Consistency = 0x07
)

func (c Consistency) String() string {
	switch c {
	case Any:
		return "ANY"
	case One:
		return "ONE"
	case Two:
		return "TWO"
	case Three:
		return "THREE"
	case Quorum:
		return "QUORUM"
	case All:
		return "ALL"
	case LocalQuorum:
		return "LOCAL_QUORUM"
	case EachQuorum:
		return "EACH_QUORUM"
	default:
		return fmt.Sprintf("UNKNOWN_CONS_0x%x", uint16(c))
	}
}

// ParseConsistency resolves a consistency level by its upper-case name.
func ParseConsistency(s string) (Consistency, error) {
	for c := Any; c <= EachQuorum; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid consistency %q", s)
}
