package fifotrack

import (
	"fmt"
	"strconv"

	"nuha.dev/textgps/internal/gpsv2/checksum"
)

const (
	CMD_PHOTO_ANNOUNCE = "D05"
	CMD_PHOTO_CHUNK    = "D06"
)

// PhotoRequest builds the frame asking imei for size bytes of photo_id
// starting at offset.
func PhotoRequest(imei, photo_id string, offset, size int) []byte {
	content := CMD_PHOTO_CHUNK + "," + photo_id + "," + strconv.Itoa(offset) + "," + strconv.Itoa(size)
	length := 1 + len(imei) + 1 + len(content) + 5
	frame := fmt.Sprintf("@@%02d,%s,%s*", length, imei, content)
	frame += checksum.Sum(frame) + "\r\n"
	return []byte(frame)
}
