package rpc

import "github.com/yesqlkv/yesqlkv/pkg/kverrors"

// kvCode is the stable numeric error identity carried on every response
// (spec.md 6 "Error codes"), aliased so message structs can name the
// field type without every caller importing pkg/kverrors directly.
type kvCode = kverrors.Code

func codeOf(err error) kvCode { return kverrors.CodeOf(err) }

func errFromCode(c kvCode) error { return kverrors.FromCode(c) }
