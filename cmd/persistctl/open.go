package main

import (
	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/ao-apps/ao-persistence/list"
	"github.com/ao-apps/ao-persistence/serial"
)

// openList opens path as a two-copy-protected dynamic block buffer
// holding a PersistentLinkedList[int64], the configuration this CLI
// always drives (persistctl is a debugging/ops tool, not a general
// client library entry point).
func openList(path string, level buffer.ProtectionLevel, readOnly bool) (*list.PersistentLinkedList[int64], func() error, error) {
	buf, err := buffer.OpenTwoCopyBarrierBuffer(path, buffer.Config{ProtectionLevel: level})
	if err != nil {
		return nil, nil, err
	}
	blocks, err := block.OpenDynamicPersistentBlockBuffer(buf, block.Config{})
	if err != nil {
		return nil, nil, err
	}
	reg := serial.NewRegistry()
	codec := serial.Resolve[int64](reg)

	var l *list.PersistentLinkedList[int64]
	if readOnly {
		l, err = list.OpenReadOnly(blocks, codec)
	} else {
		l, err = list.Open(blocks, codec)
	}
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}
