package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// field is a decoded wire value: varint or length-delimited bytes.
type field struct {
	u uint64
	b []byte
}

type fields map[protowire.Number][]field

func decode(t *testing.T, b []byte) fields {
	t.Helper()
	out := fields{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0, "bad tag")
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			require.GreaterOrEqual(t, n, 0, "bad varint")
			out[num] = append(out[num], field{u: v})
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			require.GreaterOrEqual(t, n, 0, "bad bytes")
			out[num] = append(out[num], field{b: v})
			b = b[n:]
		default:
			t.Fatalf("unexpected wire type %v", typ)
		}
	}
	return out
}

func (f fields) str(n protowire.Number) string {
	if len(f[n]) == 0 {
		return ""
	}
	return string(f[n][0].b)
}

func (f fields) uint(n protowire.Number) uint64 {
	if len(f[n]) == 0 {
		return 0
	}
	return f[n][0].u
}

func (f fields) sint(n protowire.Number) int64 {
	return protowire.DecodeZigZag(f.uint(n))
}

func (f fields) has(n protowire.Number) bool { return len(f[n]) > 0 }
