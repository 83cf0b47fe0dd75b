package payment

import (
	"mpesa-billing/internal/mpesa"
)

const (
	msgCheckPhone        = "Please check your phone to complete the payment."
	msgNoActive          = "No active transaction found for user. Please contact support."
	msgInitiateFailed    = "Failed to initiate payment. Please try again or contact support."
	msgPaymentSuccessful = "Payment successful"
	msgStatusUnavailable = "Unable to check payment status. Please try again."
	msgActivationFailed  = "Failed to activate your package. Please try again later."
	msgExpired           = "Payment request expired. Please start a new transaction."
	msgPaymentFailed     = "Payment failed. Please try again."
	msgNotPending        = "This transaction is no longer pending. Please start a new transaction."
	msgNotInitiated      = "Payment not initiated. Please start the payment first."

	msgNoCallbackData      = "No callback data received from M-PESA."
	msgMissingCheckout     = "Invalid callback data: Missing CheckoutRequestID."
	msgTransactionNotFound = "Transaction not found for CheckoutRequestID: "
	msgUserNotFound        = "User not found for transaction: "
	msgProcessed           = "Payment processed successfully"
	msgWebhookActivation   = "Failed to activate package. Please contact support."
	msgNotSuccessful       = "Payment not successful"
	msgTransactionClosed   = "Transaction already closed. Please contact support."
	msgUpdateFailed        = "Failed to update transaction."
)

// User-facing text for failed payment initiation, by error reason.
var initiateMessages = map[mpesa.Reason]string{
	mpesa.ReasonInvalidPhone:        "Invalid phone number. Please use format 254XXXXXXXXX.",
	mpesa.ReasonInvalidToken:        "Payment service authentication failed. Please try again or contact support.",
	mpesa.ReasonInsufficientBalance: "Insufficient balance in the M-PESA account. Please top up and try again.",
	mpesa.ReasonNetwork:             "Network error. Please check your internet connection and try again.",
}

// User-facing text for failed status checks, by error reason.
var statusMessages = map[mpesa.Reason]string{
	mpesa.ReasonProcessing:   "Payment is still being processed. Please check again shortly.",
	mpesa.ReasonInvalidToken: "Payment service authentication failed. Please try again or contact support.",
	mpesa.ReasonNetwork:      "Network error. Please check your internet connection and try again.",
}

func initiateMessage(err error) string {
	if msg, ok := initiateMessages[mpesa.ReasonOf(err)]; ok {
		return msg
	}
	return msgInitiateFailed
}

func statusMessage(err error) string {
	if msg, ok := statusMessages[mpesa.ReasonOf(err)]; ok {
		return msg
	}
	return "Unable to check payment status. Please try again or contact support."
}
