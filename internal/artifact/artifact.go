// Package artifact derives the storage locations of a CRI-O release bundle.
package artifact

import (
	"fmt"
	"strings"
)

// File name suffixes of the side-artifacts.
const (
	SBOMSuffix        = ".spdx"
	SignatureSuffix   = ".sig"
	CertificateSuffix = ".cert"
)

// Set holds every location of one bundle. It is derived once and never
// modified.
type Set struct {
	Arch    string
	Version string

	TarballName string
	SBOMName    string

	TarballURL            string
	SBOMURL               string
	TarballSignatureURL   string
	TarballCertificateURL string
	SBOMSignatureURL      string
	SBOMCertificateURL    string
}

// File is a named remote object.
type File struct {
	Name string
	URL  string
}

// TarballName returns the bundle file name for arch and version.
// Pattern: cri-o.{arch}.{version}.tar.gz
func TarballName(arch, version string) string {
	return fmt.Sprintf("cri-o.%s.%s.tar.gz", arch, version)
}

// Locate derives the artifact set below baseURL. It performs no validation;
// a malformed version yields URLs that fail when fetched.
// Pattern: {baseURL}/artifacts/cri-o.{arch}.{version}.tar.gz
func Locate(baseURL, arch, version string) Set {
	dir := strings.TrimRight(baseURL, "/") + "/artifacts"
	tarball := TarballName(arch, version)
	sbom := tarball + SBOMSuffix

	return Set{
		Arch:                  arch,
		Version:               version,
		TarballName:           tarball,
		SBOMName:              sbom,
		TarballURL:            dir + "/" + tarball,
		SBOMURL:               dir + "/" + sbom,
		TarballSignatureURL:   dir + "/" + tarball + SignatureSuffix,
		TarballCertificateURL: dir + "/" + tarball + CertificateSuffix,
		SBOMSignatureURL:      dir + "/" + sbom + SignatureSuffix,
		SBOMCertificateURL:    dir + "/" + sbom + CertificateSuffix,
	}
}

// Files lists the six objects downloaded for verification, tarball first.
func (s Set) Files() []File {
	return []File{
		{Name: s.TarballName, URL: s.TarballURL},
		{Name: s.TarballName + SignatureSuffix, URL: s.TarballSignatureURL},
		{Name: s.TarballName + CertificateSuffix, URL: s.TarballCertificateURL},
		{Name: s.SBOMName, URL: s.SBOMURL},
		{Name: s.SBOMName + SignatureSuffix, URL: s.SBOMSignatureURL},
		{Name: s.SBOMName + CertificateSuffix, URL: s.SBOMCertificateURL},
	}
}
