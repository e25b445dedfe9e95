package protocol

import "strings"

// SplitTokens splits a request line's parameter portion on whitespace, the
// classic protocol's header-line tokenization (spec section 4.3: "Reads a
// line, splits on first space into command | params").
func SplitTokens(params string) []string {
	if params == "" {
		return nil
	}
	return strings.Fields(params)
}

// StripNoReply reports whether the last token is the noreply marker,
// returning the remaining tokens with it removed.
func StripNoReply(tokens []string) (remaining []string, noreply bool) {
	if len(tokens) > 0 && tokens[len(tokens)-1] == NoReply {
		return tokens[:len(tokens)-1], true
	}
	return tokens, false
}
