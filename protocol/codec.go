package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

const headerSize = 4

// Encode serializes m into a complete frame, length prefix included
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("protocol: cannot encode nil message")
	}
	frame := make([]byte, headerSize, headerSize+64)
	frame = append(frame, byte(m.Kind()))
	frame, err := appendPayload(frame, m)
	if err != nil {
		return nil, err
	}
	bodyLen := len(frame) - headerSize
	if bodyLen > common.MAX_FRAME_SIZE {
		return nil, fmt.Errorf("protocol: %s frame of %d bytes exceeds limit", m.Kind(), bodyLen)
	}
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(bodyLen))
	return frame, nil
}

// Decode parses one complete frame as produced by Encode
func Decode(frame []byte) (Message, error) {
	if len(frame) < headerSize+1 {
		return nil, fmt.Errorf("%w: frame of %d bytes is too short", common.ErrMalformedMessage, len(frame))
	}
	bodyLen := binary.BigEndian.Uint32(frame[:headerSize])
	if uint64(bodyLen) != uint64(len(frame)-headerSize) {
		return nil, fmt.Errorf("%w: frame announces %d bytes, carries %d",
			common.ErrMalformedMessage, bodyLen, len(frame)-headerSize)
	}
	return decodeBody(frame[headerSize:])
}

// WriteMessage encodes m and writes the frame to w
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads exactly one frame from r, however the transport fragments it.
// Frames announcing more than maxFrameSize bytes are rejected before any allocation.
// Transport errors are returned unchanged; decoding errors wrap common.ErrMalformedMessage.
func ReadMessage(r io.Reader, maxFrameSize uint32) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(header[:])
	if bodyLen == 0 {
		return nil, fmt.Errorf("%w: empty frame", common.ErrMalformedMessage)
	}
	if bodyLen > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit %d", common.ErrMalformedMessage, bodyLen, maxFrameSize)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return decodeBody(body)
}

func appendPayload(b []byte, m Message) ([]byte, error) {
	switch m := m.(type) {
	case Status:
		b = appendUint(b, 1, uint64(m.Code))
	case Register:
		b = appendNode(b, m.Node)
	case PutFile:
		b = appendString(b, 1, m.Path)
		b = appendUint(b, 2, m.Size)
	case DataBlocks:
		b = appendString(b, 1, m.Path)
		for _, p := range m.Placements {
			b = appendPlacement(b, 2, p)
		}
	case GetFile:
		b = appendString(b, 1, m.Path)
	case List:
	case PutBlock:
		b = appendUint(b, 1, m.SizeHint)
	case GetBlock:
		b = appendString(b, 1, m.BlockID)
	case NodeList:
		for _, n := range m.Nodes {
			b = protowire.AppendTag(b, 1, protowire.BytesType)
			b = protowire.AppendBytes(b, appendNode(nil, n))
		}
	case FileInode:
		b = appendUint(b, 1, m.Size)
		for _, p := range m.Placements {
			b = appendPlacement(b, 2, p)
		}
	case FileList:
		for _, f := range m.Files {
			var file []byte
			file = appendString(file, 1, f.Name)
			file = appendUint(file, 2, f.Size)
			b = protowire.AppendTag(b, 1, protowire.BytesType)
			b = protowire.AppendBytes(b, file)
		}
	case BlockID:
		b = appendString(b, 1, m.ID)
	case BlockData:
		b = append(b, m.Data...)
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
	return b, nil
}

func decodeBody(body []byte) (Message, error) {
	kind, payload := Kind(body[0]), body[1:]
	if kind == KindBlockData {
		data := make([]byte, len(payload))
		copy(data, payload)
		return BlockData{Data: data}, nil
	}
	if kind == KindList {
		if len(payload) != 0 {
			return nil, malformed(kind, "unexpected payload")
		}
		return List{}, nil
	}
	fields, err := parseFields(payload)
	if err != nil {
		return nil, malformed(kind, err.Error())
	}
	var m Message
	switch kind {
	case KindStatus:
		m, err = decodeStatus(fields)
	case KindRegister:
		var node common.NodeAddress
		node, err = decodeNode(fields)
		m = Register{Node: node}
	case KindPutFile:
		m, err = decodePutFile(fields)
	case KindDataBlocks:
		m, err = decodeDataBlocks(fields)
	case KindGetFile:
		var path string
		path, err = singleString(fields)
		m = GetFile{Path: path}
	case KindPutBlock:
		var hint uint64
		hint, err = singleUint(fields)
		m = PutBlock{SizeHint: hint}
	case KindGetBlock:
		var id string
		id, err = singleString(fields)
		m = GetBlock{BlockID: id}
	case KindNodeList:
		m, err = decodeNodeList(fields)
	case KindFileInode:
		m, err = decodeFileInode(fields)
	case KindFileList:
		m, err = decodeFileList(fields)
	case KindBlockID:
		var id string
		id, err = singleString(fields)
		m = BlockID{ID: id}
	default:
		return nil, fmt.Errorf("%w: unknown message kind %d", common.ErrMalformedMessage, uint8(kind))
	}
	if err != nil {
		return nil, malformed(kind, err.Error())
	}
	return m, nil
}

func malformed(kind Kind, reason string) error {
	return fmt.Errorf("%w: %s: %s", common.ErrMalformedMessage, kind, reason)
}

func decodeStatus(fields []field) (Message, error) {
	code, err := singleUint(fields)
	if err != nil {
		return nil, err
	}
	if _, ok := statusNames[StatusCode(code)]; !ok || code > 0xff {
		return nil, fmt.Errorf("unknown status code %d", code)
	}
	return Status{Code: StatusCode(code)}, nil
}

func decodePutFile(fields []field) (Message, error) {
	var m PutFile
	for _, f := range fields {
		var err error
		switch f.num {
		case 1:
			m.Path, err = f.str()
		case 2:
			m.Size, err = f.uint()
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeDataBlocks(fields []field) (Message, error) {
	var m DataBlocks
	for _, f := range fields {
		switch f.num {
		case 1:
			path, err := f.str()
			if err != nil {
				return nil, err
			}
			m.Path = path
		case 2:
			p, err := f.placement()
			if err != nil {
				return nil, err
			}
			m.Placements = append(m.Placements, p)
		}
	}
	return m, nil
}

func decodeNodeList(fields []field) (Message, error) {
	m := NodeList{Nodes: []common.NodeAddress{}}
	for _, f := range fields {
		if f.num != 1 {
			continue
		}
		nested, err := f.nested()
		if err != nil {
			return nil, err
		}
		node, err := decodeNode(nested)
		if err != nil {
			return nil, err
		}
		m.Nodes = append(m.Nodes, node)
	}
	return m, nil
}

func decodeFileInode(fields []field) (Message, error) {
	m := FileInode{Placements: []common.Placement{}}
	for _, f := range fields {
		switch f.num {
		case 1:
			size, err := f.uint()
			if err != nil {
				return nil, err
			}
			m.Size = size
		case 2:
			p, err := f.placement()
			if err != nil {
				return nil, err
			}
			m.Placements = append(m.Placements, p)
		}
	}
	return m, nil
}

func decodeFileList(fields []field) (Message, error) {
	m := FileList{Files: []common.FileInfo{}}
	for _, f := range fields {
		if f.num != 1 {
			continue
		}
		nested, err := f.nested()
		if err != nil {
			return nil, err
		}
		var info common.FileInfo
		for _, nf := range nested {
			switch nf.num {
			case 1:
				info.Name, err = nf.str()
			case 2:
				info.Size, err = nf.uint()
			}
			if err != nil {
				return nil, err
			}
		}
		m.Files = append(m.Files, info)
	}
	return m, nil
}

func decodeNode(fields []field) (common.NodeAddress, error) {
	var node common.NodeAddress
	for _, f := range fields {
		switch f.num {
		case 1:
			addr, err := f.str()
			if err != nil {
				return node, err
			}
			node.Address = addr
		case 2:
			port, err := f.uint()
			if err != nil {
				return node, err
			}
			if port > 0xffff {
				return node, fmt.Errorf("port %d out of range", port)
			}
			node.Port = uint16(port)
		}
	}
	return node, nil
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendNode(b []byte, n common.NodeAddress) []byte {
	b = appendString(b, 1, n.Address)
	return appendUint(b, 2, uint64(n.Port))
}

func appendPlacement(b []byte, num protowire.Number, p common.Placement) []byte {
	var nested []byte
	nested = appendNode(nested, p.Node)
	nested = appendString(nested, 3, p.BlockID)
	nested = appendUint(nested, 4, p.Chunk)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, nested)
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// parseFields splits a payload into its fields, skipping wire types this protocol never writes
func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ == protowire.VarintType || typ == protowire.BytesType {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

func (f field) uint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("field %d: want varint, got wire type %d", f.num, f.typ)
	}
	return f.varint, nil
}

func (f field) str() (string, error) {
	if f.typ != protowire.BytesType {
		return "", fmt.Errorf("field %d: want bytes, got wire type %d", f.num, f.typ)
	}
	return string(f.bytes), nil
}

func (f field) nested() ([]field, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: want nested record, got wire type %d", f.num, f.typ)
	}
	return parseFields(f.bytes)
}

func (f field) placement() (common.Placement, error) {
	nested, err := f.nested()
	if err != nil {
		return common.Placement{}, err
	}
	node, err := decodeNode(nested)
	if err != nil {
		return common.Placement{}, err
	}
	p := common.Placement{Node: node}
	for _, nf := range nested {
		switch nf.num {
		case 3:
			p.BlockID, err = nf.str()
		case 4:
			p.Chunk, err = nf.uint()
		}
		if err != nil {
			return common.Placement{}, err
		}
	}
	return p, nil
}

func singleUint(fields []field) (uint64, error) {
	var v uint64
	for _, f := range fields {
		if f.num != 1 {
			continue
		}
		var err error
		if v, err = f.uint(); err != nil {
			return 0, err
		}
	}
	return v, nil
}

func singleString(fields []field) (string, error) {
	var s string
	for _, f := range fields {
		if f.num != 1 {
			continue
		}
		var err error
		if s, err = f.str(); err != nil {
			return "", err
		}
	}
	return s, nil
}
