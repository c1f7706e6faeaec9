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

	"github.com/etch-lang/etch/lang/vm"
)

// OpCallExtern fixes exactly two register operands (see lang/vm.VM.execute),
// unlike the teacher's original ISA, which passed a (pointer, length) pair
// per argument into a flat linear memory. Builtins that need more than two
// byte-string operands (ML-DSA/SLH-DSA/Falcon verification all take
// message, signature, and public key) take them packed into a single
// array[string] Etch value in register b; register c is unused (VoidValue)
// for those. Builtins that naturally take at most two byte strings (hash
// data; hash+signature for recovery) take them directly in b and c.

// bytesArg extracts the backing bytes of a string-kind Value from heap h.
func bytesArg(h *vm.Heap, v vm.Value) ([]byte, error) {
	if v.Tag != vm.TagRef {
		return nil, fmt.Errorf("ffi: expected a string argument, got tag %d", v.Tag)
	}
	cell := h.Get(v.Handle)
	if cell == nil || cell.Kind != vm.CellString {
		return nil, fmt.Errorf("ffi: expected a string argument")
	}
	return cell.Bytes, nil
}

// operandList extracts the []byte operands packed into an array[string]
// Value in argument order.
func operandList(h *vm.Heap, v vm.Value) ([][]byte, error) {
	if v.Tag != vm.TagRef {
		return nil, fmt.Errorf("ffi: expected an array argument, got tag %d", v.Tag)
	}
	cell := h.Get(v.Handle)
	if cell == nil || cell.Kind != vm.CellArray {
		return nil, fmt.Errorf("ffi: expected an array argument")
	}
	out := make([][]byte, len(cell.Elems))
	for i, elem := range cell.Elems {
		b, err := bytesArg(h, elem)
		if err != nil {
			return nil, fmt.Errorf("ffi: operand %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// newStringValue allocates a new string cell on h holding data and returns
// a strong reference to it.
func newStringValue(h *vm.Heap, data []byte) vm.Value {
	id := h.Alloc(vm.CellString, -1)
	h.Get(id).Bytes = data
	return vm.RefValue(id)
}

func externSHA3Hash(machine *vm.VM, args []vm.Value) (vm.Value, error) {
	data, err := bytesArg(machine.Heap(), args[0])
	if err != nil {
		return vm.Value{}, err
	}
	sum := Hash(data)
	return newStringValue(machine.Heap(), sum[:]), nil
}

func externSHAKE256(machine *vm.VM, args []vm.Value) (vm.Value, error) {
	data, err := bytesArg(machine.Heap(), args[0])
	if err != nil {
		return vm.Value{}, err
	}
	outputLen := int(args[1].AsInt())
	if outputLen < 0 {
		return vm.Value{}, fmt.Errorf("ffi: shake256 output length %d is negative", outputLen)
	}
	return newStringValue(machine.Heap(), SHAKE256(data, outputLen)), nil
}

func externSecp256k1Recover(machine *vm.VM, args []vm.Value) (vm.Value, error) {
	hashBytes, err := bytesArg(machine.Heap(), args[0])
	if err != nil {
		return vm.Value{}, err
	}
	sigBytes, err := bytesArg(machine.Heap(), args[1])
	if err != nil {
		return vm.Value{}, err
	}
	if len(hashBytes) != 32 {
		return vm.Value{}, fmt.Errorf("ffi: secp256k1Recover: hash must be 32 bytes, got %d", len(hashBytes))
	}
	if len(sigBytes) != 65 {
		return vm.Value{}, fmt.Errorf("ffi: secp256k1Recover: signature must be 65 bytes, got %d", len(sigBytes))
	}
	var hash [32]byte
	var sig [65]byte
	copy(hash[:], hashBytes)
	copy(sig[:], sigBytes)
	addr, err := Secp256k1Recover(hash, sig)
	if err != nil {
		return vm.Value{}, err
	}
	return newStringValue(machine.Heap(), addr[:]), nil
}

// verifyOperands unpacks the (msg, sig, pubkey) triple packed into args[0]
// by a signature-verification builtin.
func verifyOperands(machine *vm.VM, args []vm.Value) (msg, sig, pubkey []byte, err error) {
	operands, err := operandList(machine.Heap(), args[0])
	if err != nil {
		return nil, nil, nil, err
	}
	if len(operands) != 3 {
		return nil, nil, nil, fmt.Errorf("ffi: signature verify expects 3 operands (msg, sig, pubkey), got %d", len(operands))
	}
	return operands[0], operands[1], operands[2], nil
}

func externMLDSAVerify(machine *vm.VM, args []vm.Value) (vm.Value, error) {
	msg, sig, pubkey, err := verifyOperands(machine, args)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.BoolValue(MLDSAVerify(msg, sig, pubkey)), nil
}

func externSLHDSAVerify(machine *vm.VM, args []vm.Value) (vm.Value, error) {
	msg, sig, pubkey, err := verifyOperands(machine, args)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.BoolValue(SLHDSAVerify(msg, sig, pubkey)), nil
}

func externFalcon512Verify(machine *vm.VM, args []vm.Value) (vm.Value, error) {
	msg, sig, pubkey, err := verifyOperands(machine, args)
	if err != nil {
		return vm.Value{}, err
	}
	ok, err := Falcon512Verify(msg, sig, pubkey)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.BoolValue(ok), nil
}
