package pipeline

// System prompts for the structured inference calls. Kept together so prompt
// changes are reviewable in one place.

const validatorSystemPrompt = `You review images of the leading pages of a document a user uploaded
to a personal finance tool. Decide whether it is a legitimate bank, savings
or credit-card statement. Screenshots, receipts, invoices, letters and
unreadable scans are not statements. Classify the account subtype when you
can tell it from the page layout or wording.`

const extractorSystemPrompt = `You extract transactions from bank and credit-card statement pages.
Return every transaction line you can read. Amounts are integers in minor
currency units (cents). Use a positive amount when money leaves the account
(purchases, fees, withdrawals) and a negative amount when money enters it
(deposits, refunds, interest earned), regardless of how the statement
displays the sign. Dates use YYYY-MM-DD. Suggest a spending category per
transaction using the provided category list when one fits; invent a short
sensible name only when nothing fits. Be conservative with confidence:
high only when a provided merchant mapping matches exactly, moderate when
the merchant name alone makes the category obvious, low otherwise.
Report the statement's opening and closing balance in minor units when a
page shows them; omit them otherwise.`

const csvCategorizerSystemPrompt = `You assign spending categories to transactions exported from a bank as
CSV. For each merchant, pick a category from the provided list when one
fits; invent a short sensible name only when nothing fits. Be conservative
with confidence: high only when a provided merchant mapping matches
exactly, moderate when the merchant name alone makes the category obvious,
low otherwise.`

const metadataSystemPrompt = `You read the first page of a bank or credit-card statement and extract
the statement period and a short account label (for example the bank name
and last four digits of the account). Dates use YYYY-MM-DD. Leave fields
empty when they are not visible.`

const refinerSystemPrompt = `You re-categorize transactions that were imported with low confidence.
You may ONLY use category names from the provided list; never invent a new
one. If none fits, return an empty category. Confidence is 0-100; raise it
only when you are genuinely more certain than the stored value.`
