package llm

import (
	"fmt"
	"strings"
)

const textPromptTemplate = `You are the back-office assistant of a small Indian kirana shop.
Analyze this Hinglish WhatsApp message from the shop owner: %q

Pick exactly one action:
- UPDATE_INVENTORY: stock came in ("20 Maggi aaye 12 rupaye wale")
- RECORD_SALE: something was sold; payment_mode is "cash", "upi" or "udhaar"
- ADD_EXPENSE: money was spent (bill, rent, salary, transport)
- ADD_KHATA: a customer took goods on credit
- SETTLE_KHATA: a customer paid back their dues
- MARK_STAFF: a staff member is present or absent today
- CHECK_STOCK: the owner asks how much of an item is left
- UNKNOWN: anything else

Extract JSON with these fields (omit what does not apply):
{ "action": str, "item": str, "quantity": int, "amount": float,
  "category": str, "customer": str, "phone": str, "reason": str,
  "payment_mode": str, "staff_name": str, "status": "Present"|"Absent",
  "response_msg": str }

"amount" is the unit cost for UPDATE_INVENTORY, the total price for
RECORD_SALE, and the rupee value otherwise. "response_msg" is a short,
friendly Hinglish confirmation for the owner.
Return ONLY JSON.`

const imagePromptTemplate = `You are an automated accountant. Look at the attached bill or photo and extract JSON:
1. "action": "ADD_EXPENSE" or "UPDATE_INVENTORY"
2. "item": Item Name
3. "amount": Cost
4. "quantity": 1 unless the bill shows a count
5. "category": expense category if ADD_EXPENSE
6. "response_msg": Hinglish reply.
Return ONLY JSON.`

// TextPrompt builds the prompt for a plain text message.
func TextPrompt(text string) string {
	return fmt.Sprintf(textPromptTemplate, strings.TrimSpace(text))
}

// ImagePrompt builds the prompt for a message with an image. Any caption
// is passed along as context.
func ImagePrompt(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return imagePromptTemplate
	}
	return imagePromptTemplate + "\nThe owner's caption: " + fmt.Sprintf("%q", caption)
}
