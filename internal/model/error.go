package model

import "errors"

var ErrorTransportUnavailable = errors.New("transport channel not open")
var ErrorInvalidCursor = errors.New("read cursor may only move forward")
var ErrorSendFailed = errors.New("send rejected or timed out")
var ErrorConversationNotFound = errors.New("conversation not found")
var ErrorMessageNotFound = errors.New("message not found")
var ErrorMalformedEvent = errors.New("malformed event")
var ErrorEngineClosed = errors.New("engine closed")
