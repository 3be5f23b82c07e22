// Package qrlogin implements the QR login bridge: short-lived, single-use
// tickets that let an already-authenticated device hand a session to another
// device by displaying a scannable payload.
//
// A ticket is consumed at most once. Validation races resolve through a
// Redis WATCH transaction, so two devices scanning the same code yield
// exactly one winner. Consumed and expired tickets stay readable for a
// retention window so operators can inspect them.
package qrlogin
