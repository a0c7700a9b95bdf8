// Package can holds the classic CAN frame shared by the SocketCAN device and
// the byte stream built on top of it.
package can

// can_id flag bits and masks, as in <linux/can.h>.
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the payload capacity of a classic frame.
const MaxLen = 8

// Frame is one classic CAN frame. CANID keeps the EFF/RTR/ERR flags in its
// upper bits; only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxLen]byte
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f *Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// ID returns the identifier without flag bits.
func (f *Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Payload returns the valid data bytes, clamped to MaxLen.
func (f *Frame) Payload() []byte { return f.Data[:min(int(f.Len), MaxLen)] }
