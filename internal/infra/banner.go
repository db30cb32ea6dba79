package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner with mode-specific warnings.
func PrintBanner(w io.Writer, cfg *Config, runMode string) {
	mode := strings.ToUpper(cfg.Trading.Mode)

	color := ColorGreen
	modeDesc := "SIMULATION"
	switch mode {
	case ModeReal:
		color = ColorRed
		modeDesc = "REAL MONEY (MAINNET)"
	case ModeTestnet:
		color = ColorYellow
		modeDesc = "TESTNET (PLAY MONEY)"
	case ModePaper:
		color = ColorCyan
		modeDesc = "PAPER VENUE (NO ORDERS SENT)"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#             🔁 GRVT Two-Account Volume Engine           #")
	line("#                                                         #")
	line("#   MODE:    %-44s #", mode)
	line("#   TYPE:    %-44s #", modeDesc)
	line("#   MARKET:  %-44s #", cfg.Trading.Market)
	line("#   RUN:     %-44s #", runMode)
	line("#   VERSION: %-44s #", cfg.App.Version)

	if mode == ModeReal {
		fmt.Fprintf(w, "%s#   ⚠️  WARNING: BOTH ACCOUNTS TRADE REAL FUNDS  ⚠️        #%s\n", ColorRed, ColorReset)
		fmt.Fprintf(w, "%s#   RUN A PAPER OR TESTNET SESSION FIRST                  #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
