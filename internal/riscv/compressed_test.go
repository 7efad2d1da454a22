package riscv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandCompressed(t *testing.T) {
	cases := []struct {
		name string
		xlen int
		in   uint16
		want uint32
	}{
		{"c.addi", 64, 0x0085, 0x0010_8093},
		{"c.li", 64, 0x557d, 0xfff0_0513},
		{"c.addi16sp", 64, 0x717d, encI(OpOpImm, 2, 0, 2, -16)},
		{"c.jal", 32, 0x2009, encJ(1, 2)},
		{"c.ld", 64, 0x6480, encI(OpLoad, 8, 0b011, 9, 8)},
		{"c.flw", 32, 0x6480, encI(OpLoadFP, 8, 0b010, 9, 8)},
		{"c.srai", 64, 0x9401, encI(OpOpImm, 8, 0b101, 8, 32|0x400)},
		{"c.ebreak", 64, 0x9002, 0x0010_0073},
		{"c.mv", 64, 0x808a, encR(OpOp, 0, 2, 0, 0, 1)},
		{"c.swsp", 64, 0xc206, encS(OpStore, 0b010, 2, 1, 4)},
		{"c.beqz", 64, 0xdc75, encB(0, 8, 0, -4)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestCPU(t, tc.xlen)
			got, ok := c.expandCompressed(tc.in)
			require.True(t, ok)
			require.Equal(t, tc.want, got, "got %#08x want %#08x", got, tc.want)
		})
	}
}

func TestExpandCompressedRejectsReserved(t *testing.T) {
	cases := []struct {
		name string
		xlen int
		in   uint16
	}{
		{"all zero", 64, 0x0000},
		{"c.addiw x0", 64, 0x2009},
		{"c.srai shamt 32 on rv32", 32, 0x9401},
		{"c.lwsp x0", 64, 0x4002},
		{"c.jr x0", 64, 0x8002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestCPU(t, tc.xlen)
			_, ok := c.expandCompressed(tc.in)
			require.False(t, ok)
		})
	}
}

func TestCompressedExecution(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	// c.li a0, -1 ; c.addi a0, 1
	program(ram, 0x0505_557d)
	run(t, c, 2)
	require.Zero(t, c.ReadReg(10))
	require.Equal(t, uint64(testRAMBase+4), c.PC)
}

func TestIllegalCompressedReportsHalfword(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	program(ram, 0xffff_4002)
	out := c.Step()
	require.Equal(t, Trap, out.Kind)
	require.Equal(t, CauseIllegalInsn, c.Mcause)
	require.Equal(t, uint64(0x4002), c.Mtval)
}

func TestCompressedJalLinksTwoBytes(t *testing.T) {
	c, ram := newTestCPU(t, 32)
	program(ram, 0x0000_2009) // c.jal +2
	out := c.Step()
	require.Equal(t, Jump, out.Kind)
	require.Equal(t, uint64(testRAMBase+2), c.PC)
	require.Equal(t, uint64(testRAMBase+2), c.ReadReg(1)&0xffff_ffff)
}
