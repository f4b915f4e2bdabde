// Package license implements the offline license issuance and
// verification protocol.
//
// # Architecture Overview
//
// The package is split into symmetric halves that never call each other
// and agree byte-for-byte on what gets signed:
//
//   - KeyStore: creates, persists, and loads the RSA-2048 signing pair
//   - Codec: canonical payload bytes and the on-disk artifact format
//   - Issuer: builds a payload, signs it, writes the .lic artifact
//   - Verifier: decodes an artifact and returns a structured verdict
//
// # Signing Contract
//
// The signed bytes are the canonical JSON encoding of the payload:
// fixed alphabetical field order, compact separators, RFC 3339 UTC
// timestamps at second precision, features sorted and deduplicated.
// Signatures are RSA-PSS over SHA-256 with salt length equal to the
// digest length. Issuer and Verifier both go through Canonical; there
// is no second serialization path.
//
// # Artifact Format
//
// A .lic file is standard base64 of a JSON envelope:
//
//	{"data": {<canonical payload fields>}, "signature": "<base64>"}
//
// The format is stable: changing it invalidates every issued license.
//
// # Verification Flow
//
//	1. Decode the artifact (malformed input stops here)
//	2. Recompute canonical bytes and check the signature
//	3. Check expiry
//	4. Check machine binding
//
// The signature check gates the later steps. A payload whose signature
// does not verify is never consulted for its expiry or machine fields:
// anyone who can edit the artifact can set those fields arbitrarily.
package license
