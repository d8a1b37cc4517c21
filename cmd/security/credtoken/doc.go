// Package credtoken converts persisted credential bundles to and from the
// transportable session token handed to operators.
//
// Token shapes accepted by Decode, checked in this order:
//   - a literal JSON object ("{...}")
//   - "<prefix>:<base64 JSON>" (everything after the first ':')
//   - "<prefix>~<base64 JSON>" (everything after the first '~')
//
// Encode always produces plain standard base64 of the JSON bundle.
// New token shapes must carry a version prefix before they are added here.
package credtoken
