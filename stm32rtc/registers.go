package stm32rtc

// Register is the byte offset of a register in the RTC block.
type Register uint8

const (
	TR   Register = 0x00 // Time register
	DR   Register = 0x04 // Date register
	CR   Register = 0x08 // Control register
	ISR  Register = 0x0C // Initialization and status register
	PRER Register = 0x10 // Prescaler register
	WUTR Register = 0x14 // Wake-up timer register
	WPR  Register = 0x24 // Write protection register
	SSR  Register = 0x28 // Sub second register
)

func (r Register) String() string {
	switch r {
	case TR:
		return "TR"
	case DR:
		return "DR"
	case CR:
		return "CR"
	case ISR:
		return "ISR"
	case PRER:
		return "PRER"
	case WUTR:
		return "WUTR"
	case WPR:
		return "WPR"
	case SSR:
		return "SSR"
	}
	return "R?"
}

// Write protection keys.
const (
	UnlockKey1 = 0xCA
	UnlockKey2 = 0x53
	LockKey    = 0xFF // anything but the two unlock keys
)

// CR bits
const (
	CR_WUCKSEL_Pos = 0
	CR_WUCKSEL_Msk = 0x7 << CR_WUCKSEL_Pos
	CR_FMT         = 1 << 6  // 12 hour (AM/PM) format
	CR_WUTE        = 1 << 10 // wake-up timer enable
	CR_WUTIE       = 1 << 14 // wake-up timer interrupt enable
	CR_POL         = 1 << 20 // output polarity, set for active low
	CR_OSEL_Pos    = 21
	CR_OSEL_Msk    = 0x3 << CR_OSEL_Pos
)

// ISR bits. Bits 8-13 are not write protected.
const (
	ISR_WUTWF = 1 << 2  // wake-up timer write allowed
	ISR_INITS = 1 << 4  // calendar has been initialized (year != 0)
	ISR_RSF   = 1 << 5  // shadow registers synchronized
	ISR_INITF = 1 << 6  // initialization mode entered
	ISR_INIT  = 1 << 7  // initialization mode request
	ISR_WUTF  = 1 << 10 // wake-up event
)

// PRER fields
const (
	PRER_PREDIV_S_Pos = 0
	PRER_PREDIV_S_Msk = 0x7FFF << PRER_PREDIV_S_Pos
	PRER_PREDIV_A_Pos = 16
	PRER_PREDIV_A_Msk = 0x7F << PRER_PREDIV_A_Pos
)

// TR fields
const (
	TR_SU_Pos  = 0
	TR_ST_Pos  = 4
	TR_MNU_Pos = 8
	TR_MNT_Pos = 12
	TR_HU_Pos  = 16
	TR_HT_Pos  = 20
	TR_PM      = 1 << 22
	TR_Msk     = 0x007F7F7F
)

// DR fields
const (
	DR_DU_Pos  = 0
	DR_DT_Pos  = 4
	DR_MU_Pos  = 8
	DR_MT_Pos  = 12
	DR_WDU_Pos = 13
	DR_WDU_Msk = 0x7 << DR_WDU_Pos
	DR_YU_Pos  = 16
	DR_YT_Pos  = 20
	DR_Msk     = 0x00FFFF3F
)

const (
	WUTR_WUT_Msk = 0xFFFF
	SSR_SS_Msk   = 0xFFFF
)
