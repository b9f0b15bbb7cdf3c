// Package verify checks the provenance of a downloaded release bundle.
//
// CRI-O bundles are signed keylessly: every published blob has a detached
// signature and the short-lived Fulcio certificate of the GitHub Actions
// workflow that produced it. VerifyBlob checks that the certificate names
// the expected workflow identity and that the signature covers the exact
// bytes of the blob. ValidateSBOM cross-checks the SPDX bill of materials
// against an extracted tree.
//
// Every failure is a *VerificationError. Callers must treat it as fatal.
package verify
