package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mdp/qrterminal/v3"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	green = "\033[32m"
	dim   = "\033[2m"
)

// Logo lines — bridge ASCII art.
var logoLines = [6]string{
	`  _          _           `,
	` | |__   ___| |_ __ ___  `,
	` | '_ \ / _ \ | '_ ` + "`" + ` _ \ `,
	` | | | |  __/ | | | | | |`,
	` |_| |_|\___|_|_| |_| |_|`,
	`                          `,
}

// PrintBanner prints the bridge ASCII art logo. Below the art it
// prints the bridge id, the hub URL, and the cloud URL. Colors are
// used only when stderr is a TTY.
func PrintBanner(version, bridgeID, hubURL, cloudURL string) {
	color := isTTY()

	for i := 0; i < 6; i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, logoLines[i], reset)
		} else {
			fmt.Fprintf(os.Stderr, "%s\n", logoLines[i])
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %sbridge%s %s\n  %shub%s   %s   %scloud%s %s\n\n",
			dim, reset, version, dim, reset, bridgeID,
			dim, reset, hubURL, dim, reset, cloudURL)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   bridge %s\n  hub %s   cloud %s\n\n", version, bridgeID, hubURL, cloudURL)
	}
}

// PrintPairingCode prints the pairing code prominently, with
// instructions for the operator, and a scannable QR code (TTY only)
// encoding a redemption URL built from the code and the cloud base URL.
func PrintPairingCode(cloudURL, code string, expiresInSeconds int) {
	color := isTTY()

	if color {
		fmt.Fprintf(os.Stderr, "\n  %s%sPairing required%s — enter this code to link the bridge:\n\n", bold, green, reset)
		fmt.Fprintf(os.Stderr, "      %s%s%s%s%s\n\n", bold, cyan, code, reset, reset)
		fmt.Fprintf(os.Stderr, "  %sexpires in %ds%s\n\n", dim, expiresInSeconds, reset)
	} else {
		fmt.Fprintf(os.Stderr, "\nPairing required — code: %s (expires in %ds)\n\n", code, expiresInSeconds)
	}

	redeemURL := cloudURL + "/pair?code=" + code
	PrintQRCode(redeemURL)
}

// PrintQRCode prints a QR code for the given URL to stderr (TTY only).
func PrintQRCode(url string) {
	if !isTTY() {
		return
	}
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.L,
		Writer:         os.Stderr,
		QuietZone:      1,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
	})
	fmt.Fprintln(os.Stderr)
}

func isTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}
