package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"pkt.systems/tenantgate/schema"
)

// DefaultBrandColor is used when a company has no color.
const DefaultBrandColor = "#1f6feb"

// Foreground colors picked for readable text on a brand color.
const (
	ForegroundDark  = "#000000"
	ForegroundLight = "#ffffff"
)

// BrandingFor derives the branding of a company. A nil company yields the default look.
func BrandingFor(company *schema.Company) schema.Branding {
	branding := schema.Branding{Color: DefaultBrandColor}
	if company != nil {
		branding.Company = company.Name
		branding.Logo = company.Logo
		if color, err := normalizeHexColor(company.Color); err == nil {
			branding.Color = color
		}
	}
	branding.Foreground, _ = ContrastColor(branding.Color)
	return branding
}

// ContrastColor returns black or white, whichever has the higher WCAG contrast ratio against
// the background color.
func ContrastColor(background string) (string, error) {
	color, err := normalizeHexColor(background)
	if err != nil {
		return ForegroundDark, err
	}
	lum := relativeLuminance(color)
	onBlack := (lum + 0.05) / 0.05
	onWhite := 1.05 / (lum + 0.05)
	if onBlack >= onWhite {
		return ForegroundDark, nil
	}
	return ForegroundLight, nil
}

// normalizeHexColor accepts #rgb and #rrggbb and returns lowercase #rrggbb.
func normalizeHexColor(value string) (string, error) {
	hex := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6:
	default:
		return "", fmt.Errorf("%w: color %q", schema.ErrInvalidRequest, value)
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "", fmt.Errorf("%w: color %q", schema.ErrInvalidRequest, value)
	}
	return "#" + hex, nil
}

func relativeLuminance(color string) float64 {
	channel := func(offset int) float64 {
		v, _ := strconv.ParseUint(color[offset:offset+2], 16, 8)
		c := float64(v) / 255
		if c <= 0.03928 {
			return c / 12.92
		}
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return 0.2126*channel(1) + 0.7152*channel(3) + 0.0722*channel(5)
}
