package tlsync

import (
	"crypto/x509"

	"github.com/georgepadayatti/trustsync/trust"
)

const (
	// EULOTLURL is the location of the EU list of trusted lists.
	EULOTLURL = "https://ec.europa.eu/tools/lotl/eu-lotl.xml"

	// OJAnnouncementURL is the Official Journal publication (OJ C 276,
	// 16.8.2019) announcing the certificates allowed to sign the EU LOTL.
	OJAnnouncementURL = "https://eur-lex.europa.eu/legal-content/EN/TXT/?uri=uriserv:OJ.C_.2019.276.01.0001.01.ENG"

	// DefaultMaxPivots bounds the number of historical LOTL versions walked.
	DefaultMaxPivots = 32
)

// LOTLSource describes where the root list lives and how its signature is
// trusted. It is not modified during a run.
type LOTLSource struct {
	// URL is the location of the current list of trusted lists.
	URL string

	// Anchors verifies the oldest version of the list.
	Anchors trust.CertificateSource

	// Announcement, if set, must match a scheme information URI of the
	// oldest version of the list.
	Announcement func(uri string) bool

	// PivotSupport enables walking historical versions of the list.
	PivotSupport bool

	// MaxPivots bounds the pivot chain; zero means DefaultMaxPivots.
	MaxPivots int
}

// OfficialJournal returns an announcement predicate matching url exactly.
func OfficialJournal(url string) func(string) bool {
	return func(uri string) bool {
		return uri == url
	}
}

// EULOTL returns the source for the EU list of trusted lists with pivot
// support and the Official Journal announcement.
func EULOTL(anchors trust.CertificateSource) LOTLSource {
	return LOTLSource{
		URL:          EULOTLURL,
		Anchors:      anchors,
		Announcement: OfficialJournal(OJAnnouncementURL),
		PivotSupport: true,
		MaxPivots:    DefaultMaxPivots,
	}
}

func (s LOTLSource) maxPivots() int {
	if s.MaxPivots <= 0 {
		return DefaultMaxPivots
	}
	return s.MaxPivots
}

func anchorCertificates(src trust.CertificateSource) []*x509.Certificate {
	if src == nil {
		return nil
	}
	return src.Certificates()
}
