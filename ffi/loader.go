// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package ffi

import (
	"fmt"

	"github.com/etch-lang/etch/lang/bytecode"
	"github.com/etch-lang/etch/lang/vm"
)

// builtinLibrary is the Library a CFFIDescriptor names for every builtin
// this package provides; it has no on-disk library to resolve, so
// cache.ModuleIndex never needs to be consulted for these descriptors.
const builtinLibrary = "etch:crypto"

// builtins maps a CFFIDescriptor.Symbol to the native thunk that implements
// it.
var builtins = map[string]vm.ExternFn{
	"sha3Hash":         externSHA3Hash,
	"shake256":         externSHAKE256,
	"secp256k1Recover": externSecp256k1Recover,
	"mldsaVerify":      externMLDSAVerify,
	"slhdsaVerify":     externSLHDSAVerify,
	"falcon512Verify":  externFalcon512Verify,
}

// Descriptors returns the CFFIDescriptor table for every builtin this
// package provides, in the stable order Load expects a program's compiled
// CFFI table to reference by index.
func Descriptors() []bytecode.CFFIDescriptor {
	return []bytecode.CFFIDescriptor{
		{MangledName: "etch_sha3_hash", Library: builtinLibrary, Symbol: "sha3Hash",
			ParamTypes: []string{"string"}, ReturnType: "string"},
		{MangledName: "etch_shake256", Library: builtinLibrary, Symbol: "shake256",
			ParamTypes: []string{"string", "int"}, ReturnType: "string"},
		{MangledName: "etch_secp256k1_recover", Library: builtinLibrary, Symbol: "secp256k1Recover",
			ParamTypes: []string{"string", "string"}, ReturnType: "string"},
		{MangledName: "etch_mldsa_verify", Library: builtinLibrary, Symbol: "mldsaVerify",
			ParamTypes: []string{"array[string]"}, ReturnType: "bool"},
		{MangledName: "etch_slhdsa_verify", Library: builtinLibrary, Symbol: "slhdsaVerify",
			ParamTypes: []string{"array[string]"}, ReturnType: "bool"},
		{MangledName: "etch_falcon512_verify", Library: builtinLibrary, Symbol: "falcon512Verify",
			ParamTypes: []string{"array[string]"}, ReturnType: "bool"},
	}
}

// Load resolves a cache file's CFFI descriptor table into the []vm.ExternFn
// slice VM.SetExterns expects, preserving descs' order so OpCallExtern's
// imm16 index continues to address the same descriptor it was compiled
// against. An unresolvable Symbol is a hard error: the cache file names a
// native builtin this build doesn't provide, which is never safe to ignore
// silently since the program may depend on its result.
func Load(descs []bytecode.CFFIDescriptor) ([]vm.ExternFn, error) {
	fns := make([]vm.ExternFn, len(descs))
	for i, d := range descs {
		fn, ok := builtins[d.Symbol]
		if !ok {
			return nil, fmt.Errorf("ffi: unknown CFFI builtin %q (library %q)", d.Symbol, d.Library)
		}
		fns[i] = fn
	}
	return fns, nil
}
