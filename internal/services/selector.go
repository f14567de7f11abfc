package services

import "github.com/tbourn/go-call-relay/internal/domain"

// SelectTransport decides how a signal of the given kind reaches user.
// It is pure and never performs I/O. On error the returned kind is
// TransportRejected.
//
// Rules, in order:
//  1. no user: ErrUnknownRecipient
//  2. ringing: ios with a VoIP token uses APN VoIP, android with a Firebase
//     token uses an FCM call message, web uses the local relay
//  3. any other kind: ios or android with a Firebase token uses an FCM
//     silent message, web uses the local relay
//
// Anything left over is ErrRecipientNotReachable.
func SelectTransport(user *domain.User, kind domain.EventKind) (domain.TransportKind, error) {
	if user == nil {
		return domain.TransportRejected, ErrUnknownRecipient
	}

	if kind.Wakes() {
		switch {
		case user.Platform == domain.PlatformIOS && user.HasIOSToken():
			return domain.TransportAPNVoIP, nil
		case user.Platform == domain.PlatformAndroid && user.HasFCMToken():
			return domain.TransportFCMCall, nil
		case user.Platform == domain.PlatformWeb:
			return domain.TransportLocalRelay, nil
		}
		return domain.TransportRejected, ErrRecipientNotReachable
	}

	switch {
	case user.Platform.Mobile() && user.HasFCMToken():
		return domain.TransportFCMSilent, nil
	case user.Platform == domain.PlatformWeb:
		return domain.TransportLocalRelay, nil
	}
	return domain.TransportRejected, ErrRecipientNotReachable
}
