package parser

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// StableFunctionID returns a deterministic ID for a function.
// Format: file|line|kind|name|signature-hash.
func StableFunctionID(file string, fn FunctionFact) string {
	kind := "func"
	name := fn.Name
	if fn.Class != "" {
		kind = "method"
		name = fn.Class + "." + fn.Name
	}
	base := fmt.Sprintf("%s|%d|%s|%s", file, fn.Line, kind, name)

	if fn.Signature == "" {
		return base
	}

	sigHash := sha1.Sum([]byte(fn.Signature))
	return fmt.Sprintf("%s|%s", base, hex.EncodeToString(sigHash[:4]))
}
