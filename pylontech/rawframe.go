package pylontech

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupported SocketCAN доступен только в Linux
var ErrUnsupported = errors.New("socketcan is only supported on linux")

// Размер struct can_frame в SocketCAN
const rawFrameSize = 16

const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000
	canSFFMask = 0x000007FF
	canEFFMask = 0x1FFFFFFF
)

// parseRawFrame разбирает struct can_frame: can_id (LE), dlc, 3 байта
// выравнивания, 8 байт данных
func parseRawFrame(buf []byte) (Frame, bool, error) {
	if len(buf) < rawFrameSize {
		return Frame{}, false, fmt.Errorf("short can frame: %d bytes", len(buf))
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	if id&(canRTRFlag|canERRFlag) != 0 {
		return Frame{}, false, nil
	}
	if id&canEFFFlag != 0 {
		id &= canEFFMask
	} else {
		id &= canSFFMask
	}

	dlc := int(buf[4])
	if dlc > 8 {
		return Frame{}, false, fmt.Errorf("invalid dlc %d", dlc)
	}
	data := make([]byte, dlc)
	copy(data, buf[8:8+dlc])
	return Frame{ID: id, Data: data}, true, nil
}
