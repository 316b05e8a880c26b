// Package banner prints the startup banner: access URLs with the token
// baked in, plus a terminal QR code for phone access.
package banner

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// Print writes the startup banner to stdout. publicURL may be empty when
// no tunnel is running; the QR code encodes the most reachable URL.
func Print(localURL, publicURL string) {
	fmt.Println()
	fmt.Println("  agentdeck is running")
	fmt.Println()
	fmt.Printf("  Local:  %s\n", localURL)
	if publicURL != "" {
		fmt.Printf("  Public: %s\n", publicURL)
	}
	fmt.Println()

	target := localURL
	if publicURL != "" {
		target = publicURL
	}
	qr, err := qrcode.New(target, qrcode.Low)
	if err != nil {
		return
	}
	fmt.Println(qr.ToSmallString(false))
}
