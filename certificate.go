package apns

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"time"
)

// CertInfo describes an Apple push certificate.
type CertInfo struct {
	CName       string    // certificate full name
	OrgName     string    // organization name
	OrgUnit     string    // organization identifier (team)
	Country     string    // country
	BundleID    string    // bundle ID
	Topics      []string  // supported topics
	Development bool      // sandbox gateway allowed
	Production  bool      // production gateway allowed
	IsApple     bool      // certificate signed by Apple
	Expire      time.Time // expire date and time
}

// CertificateInfo parses and returns information about the certificate, or nil
// when the leaf certificate cannot be parsed.
func CertificateInfo(certificate tls.Certificate) *CertInfo {
	var cert = certificate.Leaf
	if cert == nil {
		if len(certificate.Certificate) == 0 {
			return nil
		}
		var err error
		if cert, err = x509.ParseCertificate(certificate.Certificate[0]); err != nil {
			return nil
		}
	}
	var info = &CertInfo{
		CName:   cert.Subject.CommonName,
		Expire:  cert.NotAfter,
		IsApple: cert.Issuer.CommonName == appleDevIssuerCN,
	}
	for _, attr := range cert.Subject.Names {
		value, ok := attr.Value.(string)
		if !ok {
			continue
		}
		switch t := attr.Type; {
		case t.Equal(typeOrgName):
			info.OrgName = value
		case t.Equal(typeOrgUnit):
			info.OrgUnit = value
		case t.Equal(typeBundle):
			info.BundleID = value
		case t.Equal(typeCountry):
			info.Country = value
		}
	}
	for _, ext := range cert.Extensions {
		switch t := ext.Id; {
		case t.Equal(typeDevelopment):
			info.Development = true
		case t.Equal(typeProduction):
			info.Production = true
		case t.Equal(typeTopics):
			info.Topics = parseTopics(ext.Value)
		}
	}
	return info
}

// parseTopics reads the topic list extension: a sequence of topic names, each
// followed by a sequence of its capabilities.
func parseTopics(data []byte) []string {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(data, &raw); err != nil {
		return nil
	}
	topics := make([]string, 0)
	for rest := raw.Bytes; len(rest) > 0; {
		var (
			err   error
			topic string
			names []string
		)
		if rest, err = asn1.Unmarshal(rest, &topic); err != nil {
			break
		}
		topics = append(topics, topic)
		if rest, err = asn1.Unmarshal(rest, &names); err != nil {
			break
		}
	}
	return topics
}

// Support returns true, if the certificate support the specified topic.
func (i CertInfo) Support(topic string) bool {
	if len(i.Topics) == 0 {
		return topic == i.BundleID
	}
	for _, name := range i.Topics {
		if name == topic {
			return true
		}
	}
	return false
}

// String return certificate CName.
func (i CertInfo) String() string {
	return i.CName
}

const appleDevIssuerCN = "Apple Worldwide Developer Relations Certification Authority"

var (
	typeCountry     = asn1.ObjectIdentifier{2, 5, 4, 6}
	typeOrgName     = asn1.ObjectIdentifier{2, 5, 4, 10}
	typeOrgUnit     = asn1.ObjectIdentifier{2, 5, 4, 11}
	typeBundle      = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	typeDevelopment = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 1}
	typeProduction  = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 2}
	typeTopics      = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 6}
)
