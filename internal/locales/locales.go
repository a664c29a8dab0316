// Package locales holds the localized DM texts, keyed by guild locale with
// an en-US fallback.
package locales

// Key names one user-facing message.
type Key string

const (
	AlreadyVerified   Key = "already_verified"
	RecheckStarted    Key = "recheck_started"
	RoleAssigned      Key = "dm_role_success"
	SetupMissing      Key = "setup_missing"
	Not18Plus         Key = "not_18_plus"
	CodeNotFound      Key = "code_not_found"
	ClaimConflict     Key = "claim_conflict"
	NicknameForbidden Key = "nickname_forbidden"
)

// DefaultLocale is the fallback for unknown or unset guild locales.
const DefaultLocale = "en-US"

var tables = map[string]map[Key]string{
	"en-US": {
		AlreadyVerified:   "✅ You're already verified! Role assigned (or re-assigned).",
		RecheckStarted:    "🔎 We're re-checking your VRChat 18+ status. If you've updated your VRChat age verification, you'll get a DM soon!",
		RoleAssigned:      "✅ You've been verified and given the verified role!",
		SetupMissing:      "⚠️ This server hasn't set up a verification role yet. Please contact an admin.",
		Not18Plus:         "❌ You are not 18+ according to VRChat. Contact an admin if this is an error.",
		CodeNotFound:      "❌ We couldn't find your verification code in your VRChat bio. Please add it and start again.",
		ClaimConflict:     "❌ That VRChat account is already linked to another Discord user.",
		NicknameForbidden: "⚠️ I couldn't update your nickname here; a server admin may need to adjust my permissions.",
	},
	"es-ES": {
		AlreadyVerified:   "✅ ¡Ya estás verificado! Rol asignado (o reasignado).",
		RecheckStarted:    "🔎 Estamos revisando de nuevo tu estado 18+. Si has actualizado tu verificación de edad, ¡recibirás un DM pronto!",
		RoleAssigned:      "✅ ¡Has sido verificado y se te ha asignado el rol!",
		SetupMissing:      "⚠️ Este servidor aún no ha configurado un rol de verificación. Por favor, contacta a un administrador.",
		Not18Plus:         "❌ No tienes 18+ según VRChat. Contacta a un administrador si esto es un error.",
		CodeNotFound:      "❌ No encontramos tu código de verificación en tu biografía de VRChat. Agrégalo y vuelve a empezar.",
		ClaimConflict:     "❌ Esa cuenta de VRChat ya está vinculada a otro usuario de Discord.",
		NicknameForbidden: "⚠️ No pude actualizar tu apodo aquí; un administrador puede necesitar ajustar mis permisos.",
	},
	"de": {
		AlreadyVerified:   "✅ Du bist bereits verifiziert! Rolle zugewiesen (oder erneut zugewiesen).",
		RecheckStarted:    "🔎 Wir prüfen deinen VRChat-18+-Status erneut. Wenn du deine Altersverifizierung aktualisiert hast, bekommst du bald eine DM!",
		RoleAssigned:      "✅ Du wurdest verifiziert und hast die Rolle erhalten!",
		SetupMissing:      "⚠️ Dieser Server hat noch keine Verifizierungsrolle eingerichtet. Bitte wende dich an einen Admin.",
		Not18Plus:         "❌ Laut VRChat bist du nicht 18+. Wende dich an einen Admin, falls das ein Fehler ist.",
		CodeNotFound:      "❌ Wir konnten deinen Verifizierungscode nicht in deiner VRChat-Bio finden. Füge ihn hinzu und starte erneut.",
		ClaimConflict:     "❌ Dieses VRChat-Konto ist bereits mit einem anderen Discord-Nutzer verknüpft.",
		NicknameForbidden: "⚠️ Ich konnte deinen Nicknamen hier nicht ändern; ein Admin muss eventuell meine Berechtigungen anpassen.",
	},
	"ja": {
		AlreadyVerified:   "✅ 既に認証済みです！ロールが適用されました（または再適用されました）。",
		RecheckStarted:    "🔎 VRChat の 18+ ステータスを再チェックしています。年齢認証を更新している場合は、すぐにDMが届きます!",
		RoleAssigned:      "✅ 認証が完了し、ロールが付与されました！",
		SetupMissing:      "⚠️ このサーバーはまだ認証ロールを設定していません。管理者に連絡してください。",
		Not18Plus:         "❌ VRChat によると、あなたは18歳以上ではありません。誤りの場合は管理者に連絡してください。",
		CodeNotFound:      "❌ VRChat のプロフィールに認証コードが見つかりませんでした。追加してからやり直してください。",
		ClaimConflict:     "❌ その VRChat アカウントは既に別の Discord ユーザーに紐付いています。",
		NicknameForbidden: "⚠️ ニックネームを更新できませんでした。管理者が権限を調整する必要があるかもしれません。",
	},
}

// T resolves key for locale, falling back to en-US for unknown locales or
// untranslated keys.
func T(locale string, key Key) string {
	if table, ok := tables[locale]; ok {
		if msg, ok := table[key]; ok {
			return msg
		}
	}
	return tables[DefaultLocale][key]
}

// Supported lists the locale codes with translation tables.
func Supported() []string {
	out := make([]string, 0, len(tables))
	for code := range tables {
		out = append(out, code)
	}
	return out
}
