package main

const (
	MsgMissingImageField = "Missing file field 'image'"

	MsgEmptyFilename = "Empty filename"

	MsgEmptyBody = "Request body is empty. Send the image as multipart field 'image', as base64 in a JSON 'image' field, or as the raw body."

	MsgInvalidBase64 = "The 'image' field is not valid base64."

	MsgHistoryDisabled = "Detection history is disabled on this server. Set DATABASE_URL to enable reports."

	MsgInvalidDetectionID = "Detection id must be a positive integer."
)
