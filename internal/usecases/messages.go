package usecases

// User-facing texts.
const (
	MsgWelcome = "Hola 👋 Soy tu asistente de trámites vehiculares. Te ayudo a consultar deudas, sanciones, " +
		"fecha límite y a generar el pago en minutos. ¿Cuál es la placa del vehículo? (ej.: ABC123 o ABC12D)"
	MsgNoDebt      = "No encontré información de deuda para la placa %s. ¿Deseas intentar con otra placa?"
	MsgUnavailable = "Lo sentimos, el servicio de consulta no está disponible en este momento. " +
		"Por favor intenta de nuevo más tarde."
	MsgSlowDown = "Estás enviando muchos mensajes. Espera un momento e intenta de nuevo."
	MsgAudio    = "Por ahora no podemos procesar audios 🙏. Envíame tu consulta en texto por favor"
	MsgDefault  = "¿En qué más te puedo ayudar? 🤔"
	MsgDone     = "Hecho. ¿Quieres hacer otra consulta?"

	DefaultCTALabel = "Pagar ahora"
	DefaultFooter   = "Paga en línea de forma segura"
)

// interactive reply ids that ask for the payment link again
var payReplyIDs = map[string]bool{"pay": true, "1": true}
