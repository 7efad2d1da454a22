package riscv

// Major opcodes
const (
	OpLoad    = 0b0000011
	OpLoadFP  = 0b0000111
	OpMiscMem = 0b0001111
	OpOpImm   = 0b0010011
	OpAuipc   = 0b0010111
	OpOpImm32 = 0b0011011
	OpStore   = 0b0100011
	OpStoreFP = 0b0100111
	OpAMO     = 0b0101111
	OpOp      = 0b0110011
	OpLui     = 0b0110111
	OpOp32    = 0b0111011
	OpMadd    = 0b1000011
	OpMsub    = 0b1000111
	OpNmsub   = 0b1001011
	OpNmadd   = 0b1001111
	OpOpFP    = 0b1010011
	OpBranch  = 0b1100011
	OpJalr    = 0b1100111
	OpJal     = 0b1101111
	OpSystem  = 0b1110011
)

func opcode(insn uint32) uint32 { return insn & 0x7f }
func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func rs3(insn uint32) uint32    { return (insn >> 27) & 0x1f }
func funct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func funct2(insn uint32) uint32 { return (insn >> 25) & 0x3 }

func immI(insn uint32) int64 {
	return int64(int32(insn) >> 20)
}

func immS(insn uint32) int64 {
	imm := (insn>>7)&0x1f | (insn>>25)<<5
	return signExtend(uint64(imm), 12)
}

func immB(insn uint32) int64 {
	imm := ((insn >> 8) & 0xf) << 1
	imm |= ((insn >> 25) & 0x3f) << 5
	imm |= ((insn >> 7) & 0x1) << 11
	imm |= (insn >> 31) << 12
	return signExtend(uint64(imm), 13)
}

func immU(insn uint32) int64 {
	return int64(int32(insn & 0xfffff000))
}

func immJ(insn uint32) int64 {
	imm := ((insn >> 21) & 0x3ff) << 1
	imm |= ((insn >> 20) & 0x1) << 11
	imm |= ((insn >> 12) & 0xff) << 12
	imm |= (insn >> 31) << 20
	return signExtend(uint64(imm), 21)
}
