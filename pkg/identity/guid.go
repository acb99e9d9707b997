package identity

import "github.com/shadowmesh/ddsauth/pkg/cryptoutil"

// AdjustedGUIDPrefix computes the adjusted GUID prefix from a
// certificate's subject DER and a candidate prefix, bit-exact per
// spec.md §4.4.1:
//
//	hiHash = SHA-256(subjectDER)
//	loHash = SHA-256(candidatePrefix)
//	hb starts at 0x80
//	for i in 0..5: adjusted[i] = hb | (hiHash[i] >> 1); hb = (hiHash[i] << 7) & 0xFF
//	for i in 0..5: adjusted[i+6] = loHash[i]
func AdjustedGUIDPrefix(subjectDER []byte, candidate GUIDPrefix) GUIDPrefix {
	hiHash := cryptoutil.SHA256(subjectDER)
	loHash := cryptoutil.SHA256(candidate[:])

	var adjusted GUIDPrefix
	hb := byte(0x80)
	for i := 0; i < 6; i++ {
		adjusted[i] = hb | (hiHash[i] >> 1)
		hb = (hiHash[i] << 7) & 0xFF
	}
	for i := 0; i < 6; i++ {
		adjusted[i+6] = loHash[i]
	}
	return adjusted
}

// AdjustedGUID computes the full adjusted GUID, preserving the
// candidate's entity id unchanged (spec.md §4.4.1).
func AdjustedGUID(subjectDER []byte, candidate GUID) GUID {
	return GUID{
		Prefix: AdjustedGUIDPrefix(subjectDER, candidate.Prefix),
		Entity: candidate.Entity,
	}
}
