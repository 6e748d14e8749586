package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

// ComputePodTemplateHash returns the content fingerprint of a pod template:
// a SHA-256 over its canonical JSON serialization. Two templates are the
// same revision if and only if their hashes match.
func ComputePodTemplateHash(template *v1alpha1.PodTemplate) string {
	// json.Marshal emits map keys in sorted order, which makes the
	// serialization canonical for env and resource maps.
	templateBytes, err := json.Marshal(template)
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(templateBytes)
	return hex.EncodeToString(sum[:])
}
