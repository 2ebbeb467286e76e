package trfb

import "encoding/binary"

// hostBigEndian records the running process's native byte order, used
// by Framebuffer.Endian to decide whether a byteswap pass is a no-op.
var hostBigEndian = detectHostBigEndian()

func detectHostBigEndian() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 0
}
