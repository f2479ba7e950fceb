// Package password hashes stand-in account passwords with argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory KB>,t=<iterations>,p=<threads>$<salt>$<key>
//
// Salt and key are unpadded standard base64. Verify reads the cost
// parameters from the hash itself, so hashes made under other Params still
// verify.
//
// The package never stores or logs passwords.
package password
