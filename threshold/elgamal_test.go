package threshold

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	n, tt := 7, 5
	dkg, err := RunDKG(n, tt)
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("day-42 common-coin seed material")
	ct, err := EncryptToGroup(dkg.GroupPublicKey, message)
	if err != nil {
		t.Fatalf("encrypt_to_group: %v", err)
	}

	shares := make([]DecryptionShare, 0, n)
	for i := 1; i <= n; i++ {
		s, err := DecryptShare(i, dkg.Shares[i], ct)
		if err != nil {
			t.Fatalf("decrypt_share(%d): %v", i, err)
		}
		shares = append(shares, s)
	}

	got, err := CombineDecryption(ct, shares[:tt], tt)
	if err != nil {
		t.Fatalf("combine_decryption: %v", err)
	}
	if string(got) != string(message) {
		t.Fatalf("combine_decryption = %q, want %q", got, message)
	}

	got2, err := CombineDecryption(ct, shares[2:], tt)
	if err != nil {
		t.Fatalf("combine_decryption (second subset): %v", err)
	}
	if string(got2) != string(message) {
		t.Fatal("decryption must be subset-independent")
	}
}

func TestCombineDecryptionInsufficientShares(t *testing.T) {
	n, tt := 5, 3
	dkg, err := RunDKG(n, tt)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := EncryptToGroup(dkg.GroupPublicKey, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	shares := make([]DecryptionShare, 0, tt-1)
	for i := 1; i <= tt-1; i++ {
		s, err := DecryptShare(i, dkg.Shares[i], ct)
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, s)
	}
	if _, err := CombineDecryption(ct, shares, tt); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestCombineDecryptionTamperedCiphertextFails(t *testing.T) {
	n, tt := 5, 3
	dkg, err := RunDKG(n, tt)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := EncryptToGroup(dkg.GroupPublicKey, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	ct.Sealed[len(ct.Sealed)-1] ^= 0xFF

	shares := make([]DecryptionShare, 0, tt)
	for i := 1; i <= tt; i++ {
		s, err := DecryptShare(i, dkg.Shares[i], ct)
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, s)
	}
	if _, err := CombineDecryption(ct, shares, tt); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}
