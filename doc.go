// Package hushbox is the server-side access-control engine for end-to-end
// encrypted group conversations.
//
// Each conversation is encrypted under a sequence of epoch keys. Rotating to
// a new epoch wraps the fresh key individually for every remaining member
// (ML-KEM-768 encapsulation), so removing someone simply stops wrapping for
// them. A backward chain link stored on each epoch lets current members
// derive older epoch keys, and a per-member visibility floor bounds how far
// back that walk is allowed to reach. The server never holds a secret key or
// a plaintext; it arbitrates epochs, membership, and visibility.
//
// Rotations are optimistic: the caller reads the current epoch, computes the
// transition, and submits it with the epoch number it observed. If another
// rotation landed first the submission fails with ErrStaleEpoch and the
// caller must re-observe and recompute; nothing is retried automatically.
//
// Basic usage:
//
//	svc := hushbox.New(hushbox.WithMemoryStore())
//
//	conv, err := svc.CreateConversation(ctx, params)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	newEpoch, err := svc.SubmitRotation(ctx, conv.ID, actor, rotation)
//	if errors.Is(err, hushbox.ErrStaleEpoch) {
//	    // re-observe and recompute
//	}
package hushbox
