// Package protocol holds the Memcached classic ASCII text-protocol
// constants, key validation, and command-name lookup shared by the client
// and server parsers.
package protocol

// CmdType enumerates the classic protocol command verbs.
type CmdType string

const (
	CmdSet     CmdType = "set"
	CmdAdd     CmdType = "add"
	CmdReplace CmdType = "replace"
	CmdAppend  CmdType = "append"
	CmdPrepend CmdType = "prepend"
	CmdCas     CmdType = "cas"
	CmdIncr    CmdType = "incr"
	CmdDecr    CmdType = "decr"
	CmdDelete  CmdType = "delete"
	CmdTouch   CmdType = "touch"
	CmdGet     CmdType = "get"
	CmdGets    CmdType = "gets"
	CmdGat     CmdType = "gat"
	CmdGats    CmdType = "gats"
	CmdStats   CmdType = "stats"
	CmdQuit    CmdType = "quit"
	CmdVersion CmdType = "version"
)

// RespCode enumerates the response tokens section 6 of the spec recognizes
// on the wire, both directions.
type RespCode string

const (
	RespStored      RespCode = "STORED"
	RespNotStored   RespCode = "NOT_STORED"
	RespExists      RespCode = "EXISTS"
	RespNotFound    RespCode = "NOT_FOUND"
	RespDeleted     RespCode = "DELETED"
	RespTouched     RespCode = "TOUCHED"
	RespValue       RespCode = "VALUE"
	RespEnd         RespCode = "END"
	RespError       RespCode = "ERROR"
	RespClientError RespCode = "CLIENT_ERROR"
	RespServerError RespCode = "SERVER_ERROR"
)

// NoReply is the trailing token that suppresses a command's response.
const NoReply = "noreply"

// Protocol-level size limits.
const (
	MaxKeyLength   = 250
	MaxValueLength = 1024 * 1024

	// DefaultMaxInitialRead is the server's default read watermark
	// (512 KiB, spec section 6).
	DefaultMaxInitialRead = 512 * 1024
)
