package protocol

import "sort"

type commandEntry struct {
	name string
	typ  CmdType
}

// commandTable is the sorted name table backing LookupCommand, the Go
// restatement of the source's static-registered enum-to-string maps (spec
// section 9: "memoized lookup over a sorted name table").
var commandTable = func() []commandEntry {
	t := []commandEntry{
		{"add", CmdAdd},
		{"append", CmdAppend},
		{"cas", CmdCas},
		{"decr", CmdDecr},
		{"delete", CmdDelete},
		{"gat", CmdGat},
		{"gats", CmdGats},
		{"get", CmdGet},
		{"gets", CmdGets},
		{"incr", CmdIncr},
		{"prepend", CmdPrepend},
		{"quit", CmdQuit},
		{"replace", CmdReplace},
		{"set", CmdSet},
		{"stats", CmdStats},
		{"touch", CmdTouch},
		{"version", CmdVersion},
	}
	sort.Slice(t, func(i, j int) bool { return t[i].name < t[j].name })
	return t
}()

// LookupCommand maps a command token (the first whitespace-delimited word
// of a request line) to its CmdType via binary search over commandTable.
func LookupCommand(name string) (CmdType, bool) {
	i := sort.Search(len(commandTable), func(i int) bool { return commandTable[i].name >= name })
	if i < len(commandTable) && commandTable[i].name == name {
		return commandTable[i].typ, true
	}
	return "", false
}

// IsStorageCommand reports whether typ is one of the commands that carry a
// value body (set/add/replace/append/prepend/cas).
func IsStorageCommand(typ CmdType) bool {
	switch typ {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCas:
		return true
	default:
		return false
	}
}
