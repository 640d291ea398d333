package linker

import (
	"debug/elf"
	"runtime"
)

type MachineType = uint8

const (
	MachineTypeNone    MachineType = iota
	MachineTypeX86_64  MachineType = iota
	MachineTypeRISCV64 MachineType = iota
	MachineTypeARM64   MachineType = iota
)

func HostMachineType() MachineType {
	switch runtime.GOARCH {
	case "amd64":
		return MachineTypeX86_64
	case "riscv64":
		return MachineTypeRISCV64
	case "arm64":
		return MachineTypeARM64
	}
	return MachineTypeNone
}

type MachineTypeStringer struct {
	MachineType
}

func (m MachineTypeStringer) String() string {
	switch m.MachineType {
	case MachineTypeX86_64:
		return "x86_64"
	case MachineTypeRISCV64:
		return "riscv64"
	case MachineTypeARM64:
		return "aarch64"
	}
	return "unknown"
}

func (m MachineTypeStringer) ELFMachine() elf.Machine {
	switch m.MachineType {
	case MachineTypeX86_64:
		return elf.EM_X86_64
	case MachineTypeRISCV64:
		return elf.EM_RISCV
	case MachineTypeARM64:
		return elf.EM_AARCH64
	}
	return elf.EM_NONE
}
