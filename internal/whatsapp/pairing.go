package whatsapp

import (
	"io"
	"net/url"

	"github.com/mdp/qrterminal/v3"
)

const pairingImageBase = "https://api.qrserver.com/v1/create-qr-code/?size=256x256&data="

// PairingURL returns a link to a rendered image of the pairing payload.
func PairingURL(code string) string {
	return pairingImageBase + url.QueryEscape(code)
}

// RenderPairing draws the pairing payload as a half-block terminal QR code.
func RenderPairing(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
