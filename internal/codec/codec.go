// Package codec packs job and allocator records into the flat big-endian
// layout exchanged between a launcher and the node daemons.
//
// JobInfo layout (2108 bytes):
//
//	magic, program id, user key[4], type(16), elan type(16), version,
//	low context, high context, my context, low node, high node,
//	entries, rail mask, bitmap[512]
//
// LibState layout (12 bytes): magic, next program id, next context base.
//
// Every field is 32 bits unless marked. The magic is checked only after the
// whole record has been read, so a record with a bad magic is rejected as a
// unit.
package codec

import (
	"encoding/binary"

	"qsnet-switch/internal/allocator"
	"qsnet-switch/internal/bitmap"
	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/qswerr"
)

const (
	JobInfoMagic  uint32 = 0xf00ff00e
	LibStateMagic uint32 = 0xf00ff00f

	JobInfoSize  = 4*(2+capability.KeyWords) + 2*2 + 4*8 + 4*capability.BitmapWords
	LibStateSize = 3 * 4
)

var be = binary.BigEndian

// AppendJobInfo appends the packed form of j to dst. Bitmap words past
// BitmapWords are not representable and must be clear.
func AppendJobInfo(dst []byte, j *capability.JobInfo) []byte {
	c := &j.Capability
	dst = be.AppendUint32(dst, JobInfoMagic)
	dst = be.AppendUint32(dst, j.ProgramID)
	for _, k := range c.UserKey {
		dst = be.AppendUint32(dst, k)
	}
	dst = be.AppendUint16(dst, uint16(c.Type))
	dst = be.AppendUint16(dst, c.ElanType)
	dst = be.AppendUint32(dst, c.Version)
	dst = be.AppendUint32(dst, c.LowContext)
	dst = be.AppendUint32(dst, c.HighContext)
	dst = be.AppendUint32(dst, c.MyContext)
	dst = be.AppendUint32(dst, c.LowNode)
	dst = be.AppendUint32(dst, c.HighNode)
	dst = be.AppendUint32(dst, c.Entries)
	dst = be.AppendUint32(dst, c.RailMask)

	var words []uint32
	if c.Bitmap != nil {
		words = c.Bitmap.Words()
	}
	for i := 0; i < capability.BitmapWords; i++ {
		var w uint32
		if i < len(words) {
			w = words[i]
		}
		dst = be.AppendUint32(dst, w)
	}
	return dst
}

func EncodeJobInfo(j *capability.JobInfo) []byte {
	return AppendJobInfo(make([]byte, 0, JobInfoSize), j)
}

// DecodeJobInfo unpacks one JobInfo from the front of buf and returns the
// remaining bytes.
func DecodeJobInfo(buf []byte) (capability.JobInfo, []byte, error) {
	if len(buf) < JobInfoSize {
		return capability.JobInfo{}, buf, qswerr.Corruptf("jobinfo truncated: %d of %d bytes", len(buf), JobInfoSize)
	}
	r := reader{buf: buf}
	magic := r.u32()

	var j capability.JobInfo
	c := &j.Capability
	j.ProgramID = r.u32()
	for i := range c.UserKey {
		c.UserKey[i] = r.u32()
	}
	c.Type = capability.Type(r.u16())
	c.ElanType = r.u16()
	c.Version = r.u32()
	c.LowContext = r.u32()
	c.HighContext = r.u32()
	c.MyContext = r.u32()
	c.LowNode = r.u32()
	c.HighNode = r.u32()
	c.Entries = r.u32()
	c.RailMask = r.u32()
	words := make([]uint32, capability.BitmapWords)
	for i := range words {
		words[i] = r.u32()
	}
	c.Bitmap = bitmap.FromWords(words)

	if magic != JobInfoMagic {
		return capability.JobInfo{}, buf, qswerr.Corruptf("jobinfo magic %#08x, want %#08x", magic, JobInfoMagic)
	}
	return j, buf[r.off:], nil
}

func AppendLibState(dst []byte, s allocator.State) []byte {
	dst = be.AppendUint32(dst, LibStateMagic)
	dst = be.AppendUint32(dst, s.NextProgramID)
	return be.AppendUint32(dst, s.NextContextBase)
}

func EncodeLibState(s allocator.State) []byte {
	return AppendLibState(make([]byte, 0, LibStateSize), s)
}

// DecodeLibState unpacks one allocator snapshot from the front of buf.
func DecodeLibState(buf []byte) (allocator.State, []byte, error) {
	if len(buf) < LibStateSize {
		return allocator.State{}, buf, qswerr.Corruptf("libstate truncated: %d of %d bytes", len(buf), LibStateSize)
	}
	r := reader{buf: buf}
	magic := r.u32()
	s := allocator.State{
		NextProgramID:   r.u32(),
		NextContextBase: r.u32(),
	}
	if magic != LibStateMagic {
		return allocator.State{}, buf, qswerr.Corruptf("libstate magic %#08x, want %#08x", magic, LibStateMagic)
	}
	return s, buf[r.off:], nil
}

// reader walks a buffer whose length has already been checked.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u32() uint32 {
	v := be.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u16() uint16 {
	v := be.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}
