package drivers

import "testing"

func TestDirectionValid(t *testing.T) {
	valid := []Direction{DirectionInput, DirectionOutput, DirectionDisabled}
	for _, direction := range valid {
		assertBools(t, direction.Valid(), true)
	}

	invalid := []Direction{"", "in", "out", "Input", "both"}
	for _, direction := range invalid {
		assertBools(t, direction.Valid(), false)
	}
}

func TestBiasValid(t *testing.T) {
	valid := []Bias{BiasNone, BiasPullUp, BiasPullDown, BiasDisabled, ""}
	for _, bias := range valid {
		assertBools(t, bias.Valid(), true)
	}

	invalid := []Bias{"pullup", "up", "floating"}
	for _, bias := range invalid {
		assertBools(t, bias.Valid(), false)
	}
}

func TestLineAddressString(t *testing.T) {
	address := LineAddress{Chip: 1, Line: 73}

	got := address.String()
	want := "chip 1 line 73"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestHardwareDriversRefuseClaimBeforeOpen(t *testing.T) {
	request := LineRequest{
		Address:   LineAddress{Chip: 0, Line: 4},
		Direction: DirectionOutput,
	}

	t.Run("gpiocdev", func(t *testing.T) {
		driver := &GpiocdevIO{}
		_, err := driver.Claim(request)
		assertError(t, err)
	})

	t.Run("rpio", func(t *testing.T) {
		driver := &RpIO{}
		_, err := driver.Claim(request)
		assertError(t, err)
	})

	t.Run("mcpio", func(t *testing.T) {
		driver := &McpIO{}
		_, err := driver.Claim(request)
		assertError(t, err)
	})
}
